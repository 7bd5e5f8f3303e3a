package models

// OngoingAsyncAction is an action that has been accepted by an asynchronous
// queue and has not finished yet.
type OngoingAsyncAction struct {
	Target NodeRef
	Action *Action
}

func NewOngoingAsyncAction(target NodeRef, action *Action) OngoingAsyncAction {
	return OngoingAsyncAction{Target: target, Action: action}
}

// Equal compares by target and action definition name.
func (o OngoingAsyncAction) Equal(other OngoingAsyncAction) bool {
	return o.Target == other.Target && o.definitionName() == other.definitionName()
}

func (o OngoingAsyncAction) definitionName() string {
	if o.Action == nil {
		return ""
	}

	return o.Action.DefinitionName()
}

func (o OngoingAsyncAction) String() string {
	return "OngoingAsyncAction[" + o.definitionName() + " on " + o.Target.String() + "]"
}
