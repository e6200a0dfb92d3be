// replybot - one-to-one chat auto-reply server
package main

func main() {
	Execute()
}
