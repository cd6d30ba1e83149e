package state

import (
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/ftag"
)

func invalidf(format string, args ...any) error {
	return fault.New(fmt.Sprintf(format, args...), ftag.With(ftag.InvalidArgument))
}

func unknownf(format string, args ...any) error {
	return fault.New(fmt.Sprintf(format, args...), ftag.With(ftag.NotFound))
}

// IsInvalid reports whether err was caused by a malformed value.
func IsInvalid(err error) bool {
	return err != nil && ftag.Get(err) == ftag.InvalidArgument
}

// IsUnknown reports whether err was caused by a reference to a scale or
// parameter that does not exist.
func IsUnknown(err error) bool {
	return err != nil && ftag.Get(err) == ftag.NotFound
}
