package app

// Command はエージェントの起動モードを表す。
type Command string

const (
	// CommandServe は状態機械とローカルAPIを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はセルフホスト用のプロフィールスキーマを適用することを示す。
	CommandMigrate Command = "migrate"
	// CommandProbe はバックエンドへの到達性を1回だけ確認することを示す。
	CommandProbe Command = "probe"
	// CommandHealthcheck は起動中のローカルAPIのヘルスチェックを実行することを示す。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "probe":
		return CommandProbe
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
