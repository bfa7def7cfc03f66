package api

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Question is a catalog record presented to both participants of a round.
type Question struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	OptionA  string `json:"optionA"`
	OptionB  string `json:"optionB"`
}

// Answer is the value a participant submits for a round. Clients send it
// as a string, a number (option index) or a boolean; it is normalised to
// a string so round resolution compares submitted values only.
type Answer string

func (a *Answer) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = Answer(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*a = Answer(n.String())
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*a = Answer(strconv.FormatBool(v))
		return nil
	}
	return fmt.Errorf("answer must be a string, number or boolean")
}
