// Package navigation owns the current page index of a viewer.
//
// The Controller is the single authority for the current page. A host that
// mirrors the page (for a page indicator, say) learns about every change
// through the change callback and may only request changes through Goto.
package navigation

import "sync"

type Controller struct {
	mu       sync.Mutex
	page     int
	count    int // 0 while unknown
	onChange func(page int)
}

func New(onChange func(page int)) *Controller {
	return &Controller{page: 1, onChange: onChange}
}

// Page is the 1-based current page.
func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Count is the known page count, or 0 before the document is ready.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Controller) CanNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page < c.upperLocked()
}

func (c *Controller) CanPrev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page > 1
}

// Goto moves to n clamped into [1, count]. It reports whether the page
// changed.
func (c *Controller) Goto(n int) bool {
	c.mu.Lock()
	return c.setLocked(n)
}

// Next is a no-op on the last page.
func (c *Controller) Next() bool {
	c.mu.Lock()
	return c.setLocked(c.page + 1)
}

// Prev is a no-op on page 1.
func (c *Controller) Prev() bool {
	c.mu.Lock()
	return c.setLocked(c.page - 1)
}

// Reset records a newly known page count and returns to page 1.
func (c *Controller) Reset(count int) bool {
	c.mu.Lock()
	c.count = max(0, count)
	return c.setLocked(1)
}

// Clear forgets the page count, pinning the page to 1 until the next Reset.
func (c *Controller) Clear() bool {
	c.mu.Lock()
	c.count = 0
	return c.setLocked(1)
}

func (c *Controller) upperLocked() int {
	if c.count < 1 {
		return 1
	}
	return c.count
}

// setLocked must be called with c.mu held; it unlocks before notifying.
func (c *Controller) setLocked(n int) bool {
	n = min(max(n, 1), c.upperLocked())
	if n == c.page {
		c.mu.Unlock()
		return false
	}
	c.page = n
	cb := c.onChange
	c.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return true
}
