//go:build fixtures

package main

import "github.com/daimatz/j4go/internal/testclasses"

func init() {
	extraClasses = testclasses.Classes
}
