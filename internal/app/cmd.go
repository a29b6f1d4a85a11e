package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーとポーリングスケジューラを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	// 第2引数に "down" を指定すると最後のマイグレーションを1つ戻す。
	CommandMigrate Command = "migrate"
	// CommandDiscover はフィードに含まれるリゾート名を表示することを示す。
	CommandDiscover Command = "discover"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
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
	case "discover":
		return CommandDiscover
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateDirection はmigrateサブコマンドの方向を返す。
// "down" 以外はすべて "up" とみなす。
func MigrateDirection(args []string) string {
	if len(args) >= 2 && args[1] == "down" {
		return "down"
	}
	return "up"
}
