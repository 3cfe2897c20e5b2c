package event

// Policy declares which transports a channel will accept and, where more
// than one is accepted, the order in which the channel tries them on
// failover.
type Policy int

const (
	// Binary accepts socket attachments only.
	Binary Policy = iota
	// HighSecurity accepts SSE attachments only.
	HighSecurity
	// Disconnected accepts long-polling clients only.
	Disconnected
	// ImmediateS2C prefers sockets, falls back to SSE.
	ImmediateS2C
	// TwoWayMessages prefers sockets, falls back to long-polling.
	TwoWayMessages
	// NoSockets prefers SSE, falls back to long-polling.
	NoSockets
	// SureDelivery prefers sockets, then SSE, then long-polling.
	SureDelivery
)

func (p Policy) String() string {
	switch p {
	case Binary:
		return "Binary"
	case HighSecurity:
		return "HighSecurity"
	case Disconnected:
		return "Disconnected"
	case ImmediateS2C:
		return "ImmediateS2C"
	case TwoWayMessages:
		return "TwoWayMessages"
	case NoSockets:
		return "NoSockets"
	case SureDelivery:
		return "SureDelivery"
	default:
		return "Unknown"
	}
}

// Kind enumerates the three wire transports a channel attachment can use.
type Kind int

const (
	KindSocket Kind = iota
	KindSSE
	KindPolling
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "Socket"
	case KindSSE:
		return "Sse"
	case KindPolling:
		return "Polling"
	default:
		return "Unknown"
	}
}

// Acceptance describes whether a transport kind is required, accepted as a
// fallback, or rejected outright for a policy.
type Acceptance int

const (
	Rejected Acceptance = iota
	Fallback
	Required
)

// Accepts reports how the policy treats the given transport kind.
func (p Policy) Accepts(k Kind) Acceptance {
	switch p {
	case Binary:
		if k == KindSocket {
			return Required
		}
		return Rejected
	case HighSecurity:
		if k == KindSSE {
			return Required
		}
		return Rejected
	case Disconnected:
		if k == KindPolling {
			return Required
		}
		return Rejected
	case ImmediateS2C:
		switch k {
		case KindSocket:
			return Fallback
		case KindSSE:
			return Fallback
		}
		return Rejected
	case TwoWayMessages:
		switch k {
		case KindSocket:
			return Fallback
		case KindPolling:
			return Fallback
		}
		return Rejected
	case NoSockets:
		switch k {
		case KindSSE:
			return Fallback
		case KindPolling:
			return Fallback
		}
		return Rejected
	case SureDelivery:
		switch k {
		case KindSocket, KindSSE, KindPolling:
			return Fallback
		}
		return Rejected
	default:
		return Rejected
	}
}

// FailoverOrder returns the transport kinds this policy tries, in the
// order a client should attempt them. Policies with only a single
// accepted kind return that one kind.
func (p Policy) FailoverOrder() []Kind {
	switch p {
	case Binary:
		return []Kind{KindSocket}
	case HighSecurity:
		return []Kind{KindSSE}
	case Disconnected:
		return []Kind{KindPolling}
	case ImmediateS2C:
		return []Kind{KindSocket, KindSSE}
	case TwoWayMessages:
		return []Kind{KindSocket, KindPolling}
	case NoSockets:
		return []Kind{KindSSE, KindPolling}
	case SureDelivery:
		return []Kind{KindSocket, KindSSE, KindPolling}
	default:
		return nil
	}
}

// RequiresAny reports whether the live set of attachment kinds satisfies
// this policy's required set. Policies whose only accepted kind is
// Required (Binary, HighSecurity, Disconnected) need at least one
// attachment of that kind; failover policies are satisfied by any
// accepted kind being present.
func (p Policy) RequiresAny(live map[Kind]int) bool {
	switch p {
	case Binary:
		return live[KindSocket] > 0
	case HighSecurity:
		return live[KindSSE] > 0
	case Disconnected:
		return live[KindPolling] > 0
	default:
		for _, k := range p.FailoverOrder() {
			if live[k] > 0 {
				return true
			}
		}
		return false
	}
}
