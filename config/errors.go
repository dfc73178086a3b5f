package config

import "errors"

var errBufferLengthNotPowerOfTwo = errors.New("config: connection.buffer_length must be a power of two")
