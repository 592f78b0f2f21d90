package main

import "github.com/joshdurbin/strava-runstats/internal/cmd"

func main() {
	cmd.Execute()
}
