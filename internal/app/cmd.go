package app

// Command はboletinバイナリのサブコマンド。
type Command string

const (
	CommandServe   Command = "serve"   // HTTPサーバー
	CommandWorker  Command = "worker"  // 失効セッションの定期削除
	CommandMigrate Command = "migrate" // users/sessionsスキーマの適用
	// CommandHealthcheck はdistrolessイメージのDocker HEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は最初の引数をサブコマンドとして解釈する。
// 引数なしや未知のサブコマンドはserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
