package bus

import (
	"fmt"

	"github.com/dkeye/commonroom/internal/core"
)

const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
	DriverRedis  = "redis"
)

// Open returns the backend named by driver.
func Open(driver, url string) (core.Bus, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverNATS:
		return NewNATS(url)
	case DriverRedis:
		return NewRedis(url), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", driver)
	}
}
