// powerswitch - EC2 power switch service.
// Start it, stop it, open the door for whoever asked.
package main

func main() {
	Execute()
}
