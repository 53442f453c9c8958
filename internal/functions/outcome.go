package functions

import (
	"strings"
)

// Step is one stage of a cascaded operation
type Step struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Outcome aggregates a primary operation and its best-effort secondary
// steps. A failed secondary step never turns a successful primary into a
// failure; it only shows up in the message and the step list.
type Outcome struct {
	Primary   Step   `json:"primary"`
	Secondary []Step `json:"secondary,omitempty"`
}

// NewOutcome starts an outcome whose primary step is name
func NewOutcome(name string) *Outcome {
	return &Outcome{Primary: Step{Name: name}}
}

// Succeed marks the primary step as done
func (o *Outcome) Succeed(detail string) {
	o.Primary.Success = true
	o.Primary.Detail = detail
}

// Fail marks the primary step as failed
func (o *Outcome) Fail(err error) {
	o.Primary.Success = false
	o.Primary.Error = err.Error()
}

// Add records a secondary step
func (o *Outcome) Add(name, detail string, err error) {
	s := Step{Name: name, Success: err == nil, Detail: detail}
	if err != nil {
		s.Error = err.Error()
	}
	o.Secondary = append(o.Secondary, s)
}

// Failed returns the secondary steps that failed
func (o *Outcome) Failed() []Step {
	var out []Step
	for _, s := range o.Secondary {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

// Message summarises the outcome in one line
func (o *Outcome) Message() string {
	if !o.Primary.Success {
		return o.Primary.Name + " failed: " + o.Primary.Error
	}
	parts := []string{o.Primary.Detail}
	if parts[0] == "" {
		parts[0] = o.Primary.Name + " completed"
	}
	for _, s := range o.Secondary {
		if s.Success {
			if s.Detail != "" {
				parts = append(parts, s.Detail)
			}
			continue
		}
		parts = append(parts, s.Name+" failed: "+s.Error)
	}
	return strings.Join(parts, "; ")
}

// Result converts the outcome, attaching data and the step list
func (o *Outcome) Result(data map[string]interface{}) Result {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["steps"] = append([]Step{o.Primary}, o.Secondary...)
	return Result{Success: o.Primary.Success, Message: o.Message(), Data: data}
}
