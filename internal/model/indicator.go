package model

// Indicator is a correlatable token found in post text, such as an email
// address or a cryptocurrency wallet.
type Indicator struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}
