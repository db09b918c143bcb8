// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package main

import "github.com/fieldlink/device-gateway/cmd"

func main() {
	cmd.Execute()
}
