// Command agentcore runs task batches on a supervised pool of agents.
package main

func main() {
	Execute()
}
