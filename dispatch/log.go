package dispatch

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("vcall.dispatch")
