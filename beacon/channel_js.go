//go:build js && wasm

package beacon

import (
	"encoding/json"
	"syscall/js"
)

// JSChannel implements MessageChannel against the real browser
// window.postMessage API, filtering incoming messages by
// event.source === iframe.contentWindow and the "beacon:" type prefix, per
// spec.md §4.8.
type JSChannel struct {
	iframe js.Value
	cb     js.Func
}

// NewJSChannel wires a MessageChannel to iframe's contentWindow.
func NewJSChannel(iframe js.Value) *JSChannel {
	return &JSChannel{iframe: iframe}
}

// Send clones env via JSON (the documented fallback when structured clone
// isn't available for the payload shape) and posts it to the iframe.
func (c *JSChannel) Send(env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	contentWindow := c.iframe.Get("contentWindow")
	contentWindow.Call("postMessage", js.ValueOf(v), "*")
	return nil
}

// OnMessage installs a window "message" listener filtered to this iframe's
// contentWindow and the beacon: type prefix.
func (c *JSChannel) OnMessage(fn func(Envelope)) func() {
	contentWindow := c.iframe.Get("contentWindow")

	cb := js.FuncOf(func(this js.Value, args []js.Value) any {
		event := args[0]
		if !event.Get("source").Equal(contentWindow) {
			return nil
		}
		data := event.Get("data")
		msgType := data.Get("type")
		if msgType.Type() != js.TypeString {
			return nil
		}
		if len(msgType.String()) < len(typePrefix) || msgType.String()[:len(typePrefix)] != typePrefix {
			return nil
		}

		b := []byte(js.Global().Get("JSON").Call("stringify", data).String())
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return nil
		}
		fn(env)
		return nil
	})
	c.cb = cb

	js.Global().Call("addEventListener", "message", cb)
	return func() {
		js.Global().Call("removeEventListener", "message", cb)
		cb.Release()
	}
}
