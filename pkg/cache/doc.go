// Package cache はトークン検証結果やユーザー情報を保持するキーバリューキャッシュを提供する。
//
// 値は不透明なバイト列として扱い、シリアライズはGetJSON/SetJSONで行う。
// バックエンドはmemcached（本番用）、Redis、インメモリ（開発・テスト用）から選択できる。
// クライアントはプロセス起動時に生成し、シャットダウン時にCloseする。
package cache
