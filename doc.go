// Package qflash programs a W25Q128-class SPI NOR flash attached to a
// small Linux board, driven from a host over a USB serial link.
//
// The root package is the flash operator: it translates address windows
// into the minimal sequence of SPI opcodes. The wire protocol lives in
// protocol, the device-side engine in engine, and the host commander in
// host. cmd/qflashd runs the engine on the device; cmd/qflash is the host
// tool.
//
// # References:
//
// SPI Flash
//   - [W25Q128]: W25Q128JV Winbond Serial Flash Memory (https://www.winbond.com/resource-files/w25q128jv%20revf%2003272018%20plus.pdf)
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet (could not find the official public URL)
package qflash
