// Latentpool - Latent Worker Provisioning Engine
// Validate. Bid. Launch.
package main

func main() {
	Execute()
}
