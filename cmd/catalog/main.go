// Command catalog は商品カタログサービスを起動する。
//
// 使い方:
//
//	catalog [serve]              APIサーバーを起動する
//	catalog migrate [up]         未適用のマイグレーションを適用する
//	catalog migrate down [N]     マイグレーションをN段階巻き戻す
//	catalog migrate version      現在のスキーマバージョンを表示する
//	catalog seed                 サンプルデータを投入する
//	catalog cleanup              期限切れセッションを削除する
//	catalog healthcheck          /health を確認する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/catalog/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
