package zwc

import (
	"log"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/golog"
)

func (z *ZWC) WithGoLogger(parentLogger *log.Logger) {
	z.WithLogWrapLogger(logwrap.New(golog.Wrap(parentLogger)))
}

func (z *ZWC) WithLogWrapLogger(lw logwrap.Logger) {
	z.logger = lw
}
