// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package transport

import (
	"net"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type namedCodec struct {
	name string
}

func (c *namedCodec) Name() string { return c.name }
func (c *namedCodec) NewConnection(_ net.Conn, _ ConnectionOptions) (Connection, error) {
	return nil, nil
}

func TestCodecRegistry(t *testing.T) {
	Convey("Given the codec registry", t, func() {

		Convey("A registered codec should be retrievable by name", func() {
			codec := &namedCodec{name: "registry-test"}
			RegisterCodec(codec)
			found, err := GetCodec("registry-test")
			So(err, ShouldBeNil)
			So(found, ShouldEqual, codec)
		})

		Convey("An unknown codec should yield an error naming it", func() {
			_, err := GetCodec("no-such-codec")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "no-such-codec")
		})

		Convey("Registering the same name twice should panic", func() {
			RegisterCodec(&namedCodec{name: "registry-dup"})
			So(func() { RegisterCodec(&namedCodec{name: "registry-dup"}) }, ShouldPanic)
		})
	})
}
