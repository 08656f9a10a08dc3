package domain

import "encoding/json"

// RenderedPage is the output of a headless-browser render: the final DOM
// serialized back to HTML plus the embedded Next.js state payload when the
// page carried one.
type RenderedPage struct {
	URL   string
	HTML  string
	State json.RawMessage // raw __NEXT_DATA__ JSON, nil when absent
}
