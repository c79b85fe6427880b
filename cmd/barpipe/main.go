// The barpipe command runs cycle-level simulations of the BAR register
// access pipeline.
package main

import (
	"github.com/joho/godotenv"
	"github.com/tebeka/atexit"
)

func main() {
	// A missing .env file is fine; the defaults apply.
	_ = godotenv.Load()

	Execute()

	atexit.Exit(0)
}
