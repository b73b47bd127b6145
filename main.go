package main

import "github.com/Sijosaju/multistream-downloader/cmd"

func main() {
	cmd.Execute()
}
