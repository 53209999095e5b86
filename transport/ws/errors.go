package ws

import "errors"

var ErrNotRegister = errors.New("first message must be register")
