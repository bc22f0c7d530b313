package account

import "errors"

var ErrEmailTaken = errors.New("email address is already registered")
