// Command detect-client samples frames from a capture source, submits them to
// a remote object detection service and serves the annotated result to an
// operator UI.
package main

func main() {
	Execute()
}
