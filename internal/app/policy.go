package app

import "github.com/namithm70/fitness-sub000/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a user whose send queue is full.
type Policy interface {
	OnBackPressure(user domain.UserID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.UserID) BackpressureAction {
	return KickMember
}
