package config

import (
	_ "github.com/any-hub/p2-hub/internal/hubmodule/p2"
)
