package main

import "github.com/sailfishos-mirror/lvm2-sub002/cmd/lvmlockd/app"

func main() {
	app.Execute()
}
