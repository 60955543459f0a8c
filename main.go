package main

import "restaurant-service/cmd"

func main() {
	cmd.Execute()
}
