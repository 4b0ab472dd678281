// Package wsnotify carries offsync change notifications over WebSocket.
//
// Hub is mounted next to the push handler on the server and fans each
// notification out to every connected client. Notifier dials the hub from a
// client and hands notifications to the realtime manager.
package wsnotify
