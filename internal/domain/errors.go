package domain

import "errors"

var (
	// ErrValidation marks input rejected before any I/O.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyLogged is returned when the user already has a record for the day.
	ErrAlreadyLogged = errors.New("exercise already logged today")
	// ErrAlreadyMember is returned when joining a group the user is already in.
	ErrAlreadyMember = errors.New("user is already a member of this group")
	// ErrAlreadyInGroup is returned when the user belongs to a different group.
	ErrAlreadyInGroup = errors.New("user already belongs to a group")
	// ErrGroupFull is returned when the roster has reached its capacity.
	ErrGroupFull = errors.New("group is full")
	// ErrInviteCodeTaken is returned by stores when a generated code collides.
	ErrInviteCodeTaken = errors.New("invite code already in use")
	// ErrInviteCodeExhausted is returned when no unique code could be generated.
	ErrInviteCodeExhausted = errors.New("could not allocate a unique invite code")

	// ErrUserNotFound is returned when a user cannot be located.
	ErrUserNotFound = errors.New("user not found")
	// ErrGroupNotFound is returned for unknown group ids and invalid invite codes.
	ErrGroupNotFound = errors.New("group not found")
	// ErrNoGroup is returned when an action needs the user to be in a group.
	ErrNoGroup = errors.New("user does not belong to a group")
	// ErrNotMember is returned when the user is not on the group's roster.
	ErrNotMember = errors.New("user is not a member of this group")
)

// IsConflict reports whether err belongs to the conflict family.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyLogged) ||
		errors.Is(err, ErrAlreadyMember) ||
		errors.Is(err, ErrAlreadyInGroup) ||
		errors.Is(err, ErrGroupFull)
}

// IsNotFound reports whether err belongs to the not-found family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrGroupNotFound)
}
