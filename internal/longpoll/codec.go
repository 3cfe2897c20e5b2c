// Package longpoll implements the long-polling transport's wire codec: a
// "GetMessage" request/response pair. The request element carries the
// http://www.marlin.org/polling namespace; the response element carries
// none. Both are sent as bare XML documents: no SOAP Envelope or Body
// element wraps them, and decoding expects none. It is the one codec in the
// subsystem built directly on the standard library (see the
// encoding/xml justification in DESIGN.md): no third-party SOAP or XML
// library appears anywhere in the reference corpus.
package longpoll

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
)

// Namespace is the XML namespace of the GetMessage request element.
const Namespace = "http://www.marlin.org/polling"

// GetMessage is the client->server request envelope body.
type GetMessage struct {
	XMLName      xml.Name `xml:"http://www.marlin.org/polling GetMessage"`
	Acknowledged uint32   `xml:"Acknowledged"`
	Type         string   `xml:"Type,omitempty"`
	Message      string   `xml:"Message,omitempty"`
	CloseChannel bool     `xml:"CloseChannel,omitempty"`
}

// GetMessageResponse is the server->client reply envelope body. Exactly
// one of the three shapes is populated per the wire contract: Empty,
// {Number,Type,Message}, or ChannelClosed.
type GetMessageResponse struct {
	XMLName       xml.Name `xml:"GetMessageResponse"`
	Empty         bool     `xml:"Empty,omitempty"`
	Number        uint32   `xml:"Number,omitempty"`
	Type          string   `xml:"Type,omitempty"`
	Message       string   `xml:"Message,omitempty"`
	ChannelClosed bool     `xml:"ChannelClosed,omitempty"`
}

// utf16BOMs are the byte-order marks that indicate a UTF-16-encoded
// body, which this codec treats as a parse error per spec's resolution
// of the source's inconsistent UTF-8/UTF-16 handling.
var utf16BOMs = [][]byte{{0xFF, 0xFE}, {0xFE, 0xFF}}

// DecodeRequest parses a GetMessage SOAP body. A UTF-16 body (detected
// by BOM) is rejected outright rather than decoded.
func DecodeRequest(body []byte) (GetMessage, error) {
	for _, bom := range utf16BOMs {
		if bytes.HasPrefix(body, bom) {
			return GetMessage{}, fmt.Errorf("longpoll: UTF-16 body not supported, UTF-8 required")
		}
	}
	var msg GetMessage
	if err := xml.Unmarshal(body, &msg); err != nil {
		return GetMessage{}, fmt.Errorf("longpoll: decode GetMessage: %w", err)
	}
	return msg, nil
}

// EncodeResponse renders resp as a UTF-8 XML document.
func EncodeResponse(resp GetMessageResponse) ([]byte, error) {
	out, err := xml.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("longpoll: encode GetMessageResponse: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// EncodeRequest renders msg as a UTF-8 XML GetMessage document, the
// client-side counterpart of DecodeRequest.
func EncodeRequest(msg GetMessage) ([]byte, error) {
	out, err := xml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("longpoll: encode GetMessage: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// DecodeResponse parses a GetMessageResponse SOAP body, the client-side
// counterpart of EncodeResponse. Like DecodeRequest, a UTF-16-BOM body
// is rejected as a parse error rather than decoded.
func DecodeResponse(body []byte) (GetMessageResponse, error) {
	for _, bom := range utf16BOMs {
		if bytes.HasPrefix(body, bom) {
			return GetMessageResponse{}, fmt.Errorf("longpoll: UTF-16 body not supported, UTF-8 required")
		}
	}
	var resp GetMessageResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return GetMessageResponse{}, fmt.Errorf("longpoll: decode GetMessageResponse: %w", err)
	}
	return resp, nil
}

// EncodeBinaryMessage base64-encodes a binary payload for transport
// inside the Message element of a non-Empty response.
func EncodeBinaryMessage(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

// DecodeBinaryMessage reverses EncodeBinaryMessage.
func DecodeBinaryMessage(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
