package bot

import (
	"errors"
	"regexp"
	"strconv"
)

// Replies for malformed command arguments.
const (
	usageRadius = "BAD FORMAT: /radius <subscription-number> <subscription-radius>"
	usageCancel = "BAD FORMAT: /cancel <subscription-number>"
)

var errBadFormat = errors.New("bad format")

var (
	radiusArgs = regexp.MustCompile(`^(\d+)\s+(\d+)(?:\s|$)`)
	cancelArgs = regexp.MustCompile(`^(\d+)(?:\s|$)`)
)

// ParseRadiusArgs parses "<subscription-number> <radius>". The number is
// one-based as shown to the user.
func ParseRadiusArgs(args string) (number, radius int, err error) {
	m := radiusArgs.FindStringSubmatch(args)
	if m == nil {
		return 0, 0, errBadFormat
	}
	if number, err = strconv.Atoi(m[1]); err != nil {
		return 0, 0, errBadFormat
	}
	if radius, err = strconv.Atoi(m[2]); err != nil {
		return 0, 0, errBadFormat
	}
	return number, radius, nil
}

// ParseIndexArg parses a one-based subscription number.
func ParseIndexArg(args string) (int, error) {
	m := cancelArgs.FindStringSubmatch(args)
	if m == nil {
		return 0, errBadFormat
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, errBadFormat
	}
	return n, nil
}
