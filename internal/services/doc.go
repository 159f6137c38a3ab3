// Package services runs the auxiliary long-lived processes a test bench
// needs next to the device, such as an Appium server or an ngrok tunnel.
//
// Services are declared in configuration by name. A service with a ready
// pattern can be started synchronously: Start returns once a matching
// output line appears and reports the pattern's first submatch, which is
// how the public tunnel URL reaches the caller.
package services
