package domain

// TalkingStatus is a transient speaking indicator, forwarded as is.
type TalkingStatus struct {
	ID       PublisherID `json:"id"`
	Speaking bool        `json:"speaking"`
}
