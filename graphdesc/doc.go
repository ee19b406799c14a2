// Package graphdesc loads frame graph descriptions written in HCL.
//
// A description declares settings, resources and passes:
//
//	settings {
//	  culling    = true
//	  block_size = 16777216
//	  policy     = "grow"
//	}
//
//	backbuffer "swap" {}
//
//	texture "gbuffer" {
//	  width  = screen.width
//	  height = screen.height
//	  format = "RGBA8Unorm"
//	}
//
//	pass "geometry" {
//	  write "gbuffer" { usage = "color-target" }
//	}
//
//	pass "compose" {
//	  read  "gbuffer" { usage = "sampled" }
//	  write "swap"    { usage = "color-target" }
//	}
//
// Expressions see the screen extent as screen.width and screen.height and
// may call min, max, floor and ceil. Description.Options turns the
// settings into graph options and Description.Build declares everything
// on a builder, binding pass callbacks by name.
package graphdesc
