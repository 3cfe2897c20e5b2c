package transport

import (
	"marlin-events/internal/channel"
	"marlin-events/internal/event"
	"marlin-events/internal/longpoll"
)

// PollTransport has no long-lived connection of its own — a long-poll
// client is represented entirely by Channel.EnablePolling's usesPolling
// flag and the channel's polling retention queue. PollTransport adapts a
// polling client into the Attachment shape; the server driver's HTTP
// handler does not construct one and works on the channel directly
// through EnablePolling and HandleGetMessage.
type PollTransport struct {
	fp uint32
}

// NewPollTransport returns a transport representing fp's polling
// client for the duration of one request handler call.
func NewPollTransport(fp uint32) *PollTransport {
	return &PollTransport{fp: fp}
}

func (p *PollTransport) Kind() event.Kind    { return event.KindPolling }
func (p *PollTransport) Fingerprint() uint32 { return p.fp }

// Send is never called on a PollTransport: polling delivery goes
// through the channel's retention queue, not a direct write, and
// Channel.Flush only calls Send on sockets and streams.
func (p *PollTransport) Send(event.Event) error { return nil }

// Close is a no-op; the channel's EnablePolling/DisablePolling flag is
// what actually represents attach/detach for this transport kind.
func (p *PollTransport) Close(string) {}

// HandleGetMessage decodes one long-poll request body, applies the
// client's acknowledgement to ch's retention queue, records any Message
// the client carried as an inbound event (base64-decoded when Type is
// "binary"), and encodes the next queued event (or an empty response)
// as the reply body.
func HandleGetMessage(ch *channel.Channel, body []byte) ([]byte, error) {
	req, err := longpoll.DecodeRequest(body)
	if err != nil {
		return nil, err
	}

	ch.AckPolling(req.Acknowledged)

	if req.Message != "" {
		if req.Type == "binary" {
			if payload, decErr := longpoll.DecodeBinaryMessage(req.Message); decErr == nil {
				ch.OnBinary(payload)
			}
		} else {
			ch.OnMessage([]byte(req.Message))
		}
	}

	if req.CloseChannel {
		ch.DisablePolling()
		return longpoll.EncodeResponse(longpoll.GetMessageResponse{ChannelClosed: true})
	}

	e, ok := ch.NextPolling()
	if !ok {
		return longpoll.EncodeResponse(longpoll.GetMessageResponse{Empty: true})
	}

	resp := longpoll.GetMessageResponse{
		Number:  e.Number,
		Type:    pollTypeName(e),
		Message: pollMessageBody(e),
	}
	return longpoll.EncodeResponse(resp)
}

func pollTypeName(e event.Event) string {
	if e.TypeName != "" {
		return e.TypeName
	}
	if e.IsUTF8 {
		return "message"
	}
	return "binary"
}

func pollMessageBody(e event.Event) string {
	if e.IsUTF8 {
		return string(e.Payload)
	}
	return longpoll.EncodeBinaryMessage(e.Payload)
}
