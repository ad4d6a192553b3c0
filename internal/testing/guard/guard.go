// Package guard forces test mode on for any package that imports it,
// so unit tests never start runtime side effects by accident.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("MERIDIAN_TEST_MODE") == "" {
			_ = os.Setenv("MERIDIAN_TEST_MODE", "1")
		}
	})
}
