package controller

import (
	"time"

	"tourchat/client/channel"
	"tourchat/protocol"
)

// InputChanged is called on every edit of the composition line. The first
// change of a burst sends typing{true}; once the line has been quiet for the
// quiet period a single typing{false} follows. Further input inside the
// period only pushes the deadline back.
func (c *Controller) InputChanged() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	c.mu.Lock()
	if c.conn == nil || c.status != channel.Open {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	leading := !c.typing
	c.typing = true
	c.typingSeq++
	seq := c.typingSeq
	c.mu.Unlock()

	if leading && !conn.Send(protocol.Typing{IsTyping: true}) {
		c.mu.Lock()
		if c.conn == conn && c.typingSeq == seq {
			c.typing = false
			c.typingSeq++
		}
		c.mu.Unlock()
		return
	}
	time.AfterFunc(c.quiet, func() { c.typingExpired(seq) })
}

func (c *Controller) typingExpired(seq uint64) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	c.mu.Lock()
	if seq != c.typingSeq || !c.typing {
		c.mu.Unlock()
		return
	}
	c.typing = false
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Send(protocol.Typing{IsTyping: false})
	}
}
