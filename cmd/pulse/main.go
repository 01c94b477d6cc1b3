// Command pulse is a terminal client for a pulse presence server: watch
// presence for a set of users, sit in a room, or print unread counters.
package main

import "github.com/kestrelsocial/pulse/cmd/pulse/cmd"

func main() {
	cmd.Execute()
}
