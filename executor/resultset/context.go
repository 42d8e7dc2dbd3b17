package resultset

// ResultContext is handed to a ResultHandler for each assembled object.
type ResultContext struct {
	object  any
	count   int
	stopped bool
}

// ResultObject returns the current object.
func (c *ResultContext) ResultObject() any {
	return c.object
}

// ResultCount returns how many objects have been produced so far.
func (c *ResultContext) ResultCount() int {
	return c.count
}

// Stop asks the assembler not to read further rows.
func (c *ResultContext) Stop() {
	c.stopped = true
}

// IsStopped reports whether Stop was called.
func (c *ResultContext) IsStopped() bool {
	return c.stopped
}

func (c *ResultContext) next(obj any) {
	c.count++
	c.object = obj
}

// ResultHandler consumes assembled objects one at a time.
type ResultHandler interface {
	HandleResult(rc *ResultContext)
}

// HandlerFunc adapts a function to ResultHandler.
type HandlerFunc func(rc *ResultContext)

func (f HandlerFunc) HandleResult(rc *ResultContext) {
	f(rc)
}

// ListHandler collects every object.
type ListHandler struct {
	list []any
}

// NewListHandler returns an empty collector.
func NewListHandler() *ListHandler {
	return &ListHandler{list: []any{}}
}

func (h *ListHandler) HandleResult(rc *ResultContext) {
	h.list = append(h.list, rc.ResultObject())
}

// Results returns the collected objects.
func (h *ListHandler) Results() []any {
	if h.list == nil {
		return []any{}
	}
	return h.list
}

// singleHandler keeps one object and stops the assembler, used by cursors.
type singleHandler struct {
	result  any
	fetched bool
}

func (h *singleHandler) HandleResult(rc *ResultContext) {
	h.result = rc.ResultObject()
	h.fetched = true
	rc.Stop()
}
