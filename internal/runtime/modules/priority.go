package modules

// Interceptor priorities. Higher values run first; every channel accepts at
// most one interceptor per priority.
const (
	// PriorityLocalDelivery hooks local handling into the Sender channel. It
	// runs before connector fan-out so local handlers observe an event before
	// any peer does.
	PriorityLocalDelivery = 200
	// PriorityConnectorFanOut hooks connector delivery into the Sender channel.
	PriorityConnectorFanOut = 100

	// PriorityBase is the default behaviour registered in a module's own
	// channel. Extensions register above it to observe or veto.
	PriorityBase = 0

	// PriorityRequestReturn intercepts return envelopes on the Handler channel.
	PriorityRequestReturn = 1000
	// PriorityInterestUpdate consumes interest updates on the Handler channel.
	PriorityInterestUpdate = 900
	// PriorityLowLevelFanOut hooks low-level handlers into the Handler channel.
	PriorityLowLevelFanOut = 0

	// PriorityInterestFilter gates per-connector delivery.
	PriorityInterestFilter = 100
	// PriorityInterestExclusion keeps interest updates out of local handling.
	PriorityInterestExclusion = 100

	// PriorityObserve runs dispatch hooks (metrics, logging) on the Sender,
	// Handler and delivery channels.
	PriorityObserve = 2000
	// PriorityTrace wraps everything else, hooks included, in a span.
	PriorityTrace = 2100
	// PriorityRecover guards each low-level handler call.
	PriorityRecover = 50
)
