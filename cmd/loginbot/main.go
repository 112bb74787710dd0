// Package main is the loginbot entrypoint: a multi-user login automation
// service driving a headless browser per user, with OCR captcha solving and
// a human-in-the-loop fallback.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
