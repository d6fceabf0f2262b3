package root

import (
	"github.com/zenGate-Global/palmyra-helpdesk/apps/cli/cmd/auth"
	connectorcmd "github.com/zenGate-Global/palmyra-helpdesk/apps/cli/cmd/connector"
	migratecmd "github.com/zenGate-Global/palmyra-helpdesk/apps/cli/cmd/migrate"
	tenantcmd "github.com/zenGate-Global/palmyra-helpdesk/apps/cli/cmd/tenant"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(migratecmd.Command())
	Root().AddCommand(tenantcmd.Command())
	Root().AddCommand(connectorcmd.Command())
}
