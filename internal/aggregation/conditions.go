package aggregation

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	ConditionExtensionsLoaded = "ExtensionsLoaded"
	ConditionModelReady       = "ModelReady"
)

func setCondition(st *State, condition metav1.Condition) {
	condition.ObservedGeneration = int64(st.Scope)
	conds := append([]metav1.Condition(nil), st.Conditions...)
	meta.SetStatusCondition(&conds, condition)
	st.Conditions = conds
}

func setExtensionsCondition(st *State, resolved, total int) {
	c := metav1.Condition{
		Type:    ConditionExtensionsLoaded,
		Status:  metav1.ConditionFalse,
		Reason:  "WaitingForExtensions",
		Message: extensionsMessage(resolved, total),
	}
	if st.ExtensionsLoaded {
		c.Status = metav1.ConditionTrue
		c.Reason = "ExtensionsResolved"
	}
	setCondition(st, c)
}

func setModelCondition(st *State) {
	c := metav1.Condition{
		Type:    ConditionModelReady,
		Status:  metav1.ConditionFalse,
		Reason:  "WaitingForResources",
		Message: "Waiting for watched resources to load",
	}
	switch {
	case st.LoadError != nil:
		c.Reason = "LoadError"
		c.Message = st.LoadError.Error()
	case st.Loaded && st.Model != nil:
		c.Status = metav1.ConditionTrue
		c.Reason = "ModelComposed"
		c.Message = fmt.Sprintf("%d nodes, %d edges", len(st.Model.Nodes), len(st.Model.Edges))
	}
	setCondition(st, c)
}

func extensionsMessage(resolved, total int) string {
	if total <= 0 {
		return "No extensions bound"
	}
	return fmt.Sprintf("%d/%d extensions resolved", resolved, total)
}
