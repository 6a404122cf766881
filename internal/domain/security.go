package domain

type PolicyAction string

const (
	ActionAllow PolicyAction = "allow"
	ActionBlock PolicyAction = "block"
)
