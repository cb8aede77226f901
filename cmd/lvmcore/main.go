package main

import "github.com/sailfishos-mirror/lvm2-sub002/cmd/lvmcore/app"

func main() {
	app.Execute()
}
