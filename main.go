// Command wayback-mirror mirrors archived subdomains and serves them locally.
package main

import "github.com/JakeFAU/wayback-mirror/cmd"

func main() {
	cmd.Execute()
}
